package users

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// hashParams de argon2id.
var hashParams = struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

// RandomPasswordHash genera una contraseña aleatoria de 32 bytes y retorna
// solo su hash PHC. Las cuentas creadas vía Hellō no usan contraseña local.
func RandomPasswordHash() (string, error) {
	plain := make([]byte, 32)
	if _, err := rand.Read(plain); err != nil {
		return "", err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	p := hashParams
	dk := argon2.IDKey(plain, salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}
