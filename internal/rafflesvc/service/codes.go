package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const codePrefix = "BTC"

// CodeGenerator renders entry codes as BTC-<base36 millis>-<8 hex>, upper case.
type CodeGenerator struct {
	rand io.Reader
	now  func() time.Time
}

func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{rand: rand.Reader, now: time.Now}
}

func (g *CodeGenerator) Next() (string, error) {
	b := make([]byte, 4)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", fmt.Errorf("failed to generate entry code: %w", err)
	}
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)
	return strings.ToUpper(fmt.Sprintf("%s-%s-%s", codePrefix, ts, hex.EncodeToString(b))), nil
}
