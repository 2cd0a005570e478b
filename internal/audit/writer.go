package audit

// Writer persists audit events.
//
// Write must validate the event, set HashPrev and Hash, and reach stable
// storage before returning. An error from Write fails the audited operation.
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash is GenesisHash until the first event is written.
	LastHash() string
}

// NopWriter discards all events. It is the writer while auditing is off.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// MultiWriter fans events out to several writers and fails on the first
// writer error.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		if err := w.Write(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var lastErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// LastHash reports the first writer's chain head.
func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}
