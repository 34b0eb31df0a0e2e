// Package probe collects system facts from remote hosts over SSH, or
// from the local host, and publishes them as infrastructure discoveries.
// Credentials live in memory only for the duration of one probe and are
// scrubbed on every exit path.
package probe

import (
	"encoding/json"
	"fmt"
)

// Credentials holds SSH authentication material. The secret fields are
// unexported byte slices: the only way to a secret is an explicit
// Expose call, and Clear can overwrite the backing memory in place.
// The redaction methods sit on the value receiver so a copy of the
// struct redacts exactly like the original.
type Credentials struct {
	username   string
	password   []byte
	privateKey []byte
	passphrase []byte
}

func NewCredentials(username, password, privateKey, passphrase string) *Credentials {
	return &Credentials{
		username:   username,
		password:   []byte(password),
		privateKey: []byte(privateKey),
		passphrase: []byte(passphrase),
	}
}

// Username is the only field safe to log.
func (c Credentials) Username() string { return c.username }

func (c Credentials) ExposePassword() string { return string(c.password) }

func (c Credentials) ExposePrivateKey() []byte { return c.privateKey }

func (c Credentials) ExposePassphrase() []byte { return c.passphrase }

func (c Credentials) HasPrivateKey() bool { return len(c.privateKey) > 0 }

func (c Credentials) HasPassphrase() bool { return len(c.passphrase) > 0 }

// String yields the fixed redacted form. fmt verbs %v, %s and %+v all
// route through here, for values and pointers alike.
func (c Credentials) String() string {
	return fmt.Sprintf("user=%s, password=***, key=***", c.username)
}

// GoString redacts %#v as well.
func (c Credentials) GoString() string {
	return c.String()
}

// MarshalJSON ensures accidental serialisation never discloses secrets.
func (c Credentials) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"username": c.username,
		"password": "***",
		"key":      "***",
	})
}

// Clear zeroes the secret material in place, then drops the references.
// Safe to call more than once.
func (c *Credentials) Clear() {
	wipe(c.password)
	wipe(c.privateKey)
	wipe(c.passphrase)
	c.password = nil
	c.privateKey = nil
	c.passphrase = nil
}

// Cleared reports whether all secret material is gone.
func (c *Credentials) Cleared() bool {
	return len(c.password) == 0 && len(c.privateKey) == 0 && len(c.passphrase) == 0
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
