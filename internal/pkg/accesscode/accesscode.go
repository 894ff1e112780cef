package accesscode

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Alphabet deliberately omits 0/O/1/I and lowercase so a code read aloud or
// typed from a WhatsApp message cannot be misread. 32 symbols keeps the
// rejection-sampling window simple and gives 40 bits of entropy at length 8.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of symbols in a generated access code.
const CodeLength = 8

// Generate returns a new random access code. The code is a bearer secret
// with a paid course behind it, so bytes come from crypto/rand, never from
// math/rand. Rejection sampling avoids modulo bias: 224 is the largest
// multiple of 32 below 256.
func Generate() (string, error) {
	const maxRandomByte = 224

	code := make([]byte, CodeLength)
	buf := make([]byte, CodeLength*2)
	written := 0

	for written < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			code[written] = Alphabet[int(b)%len(Alphabet)]
			written++
			if written == CodeLength {
				break
			}
		}
	}

	return string(code), nil
}

// Hash returns the bcrypt hash of a code. bcrypt salts per call, so two
// hashes of the same code differ and no rainbow-table lookup applies.
func Hash(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)

	return string(bytes), err
}

// Verify compares the presented code with the stored hash. bcrypt's
// comparison is adaptively costed and does not short-circuit on partial
// matches, so verification time leaks nothing about how close a guess was.
func Verify(code, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))

	return err == nil
}
