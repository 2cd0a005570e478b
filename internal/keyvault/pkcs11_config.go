package keyvault

// PKCS11Config addresses one private key on a PKCS#11 token.
type PKCS11Config struct {
	ModulePath  string
	TokenLabel  string
	TokenSerial string
	SlotID      *uint
	PIN         string
	KeyLabel    string
	KeyID       string // CKA_ID, hex
}
