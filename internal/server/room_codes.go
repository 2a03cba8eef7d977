package server

import (
	"errors"
	"math/rand"
	"strings"
)

// Room codes are typed by hand on phones, so the alphabet drops glyphs that
// are easy to misread: no O (looks like zero) and no zero at all.
const roomCodeAlphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

const roomCodeLength = 6

// GenerateRoomCode returns a code not present in usedCodes. Collisions are
// resolved by resampling; with 34^6 possible codes the loop effectively never
// runs twice. Callers must hold the same lock that guards usedCodes, otherwise
// two concurrent creates can race to the same code.
func GenerateRoomCode(usedCodes map[string]bool) string {
	for {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
		}
		roomCode := string(code)

		if !usedCodes[roomCode] {
			return roomCode
		}
	}
}

func ValidateRoomCode(code string) error {
	if len(code) != roomCodeLength {
		return errors.New("Room code must be exactly 6 characters")
	}

	code = strings.ToUpper(code)
	for _, ch := range code {
		if !strings.ContainsRune(roomCodeAlphabet, ch) {
			return errors.New("Room code contains invalid characters")
		}
	}

	return nil
}

func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
