package infra

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"classcharts-ical/middleware/ratelimit/domain"

	"golang.org/x/crypto/argon2"
)

// DefaultIdentitySalt é o salt estático usado quando IDENTITY_SALT não é definido.
//
// Um salt fixo permite que quem tenha o código e o store recalcule digests de
// pares (código, data de nascimento) conhecidos. Aceito: o dado protegido é só um
// contador de requisições. Instâncias públicas devem definir IDENTITY_SALT.
const DefaultIdentitySalt = "classcharts-ical/ratelimit/v2"

const (
	HashArgon2id = "argon2id"
	HashSHA512   = "sha512"
)

// Parâmetros do Argon2id: leves o bastante para rodar a cada requisição.
const (
	argon2Time    = 1
	argon2Memory  = 19 * 1024
	argon2Threads = 1
	argon2KeyLen  = 32
)

// Argon2Hasher gera o digest com Argon2id e codifica em hex.
type Argon2Hasher struct {
	salt []byte
}

func NewArgon2Hasher(salt string) *Argon2Hasher {
	return &Argon2Hasher{salt: []byte(salt)}
}

func (h *Argon2Hasher) Hash(identifier string) (domain.Key, error) {
	if len(h.salt) == 0 {
		return "", errors.New("argon2: empty salt")
	}
	sum := argon2.IDKey([]byte(identifier), h.salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return domain.Key(hex.EncodeToString(sum)), nil
}

// SHA512Hasher é a variante barata: SHA-512(salt || identificador).
type SHA512Hasher struct {
	salt []byte
}

func NewSHA512Hasher(salt string) *SHA512Hasher {
	return &SHA512Hasher{salt: []byte(salt)}
}

func (h *SHA512Hasher) Hash(identifier string) (domain.Key, error) {
	d := sha512.New()
	d.Write(h.salt)
	d.Write([]byte(identifier))
	return domain.Key(hex.EncodeToString(d.Sum(nil))), nil
}

// NewHasher escolhe a implementação pelo nome configurado.
func NewHasher(kind, salt string) (domain.IdentityHasher, error) {
	if salt == "" {
		salt = DefaultIdentitySalt
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", HashArgon2id:
		return NewArgon2Hasher(salt), nil
	case HashSHA512:
		return NewSHA512Hasher(salt), nil
	default:
		return nil, fmt.Errorf("unknown identity hash %q", kind)
	}
}
