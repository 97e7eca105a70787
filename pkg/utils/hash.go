package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

const sectionIDLength = 16

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// SectionID derives a stable content-addressed identifier for a document
// section. Identical inputs always produce the same id.
func SectionID(documentID string, index int, label, text string) string {
	key := strings.Join([]string{documentID, fmt.Sprintf("%d", index), label, text}, "|")
	return HashString(key)[:sectionIDLength]
}
