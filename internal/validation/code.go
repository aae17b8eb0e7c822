// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// Допустимая длина кода склада в символах.
const (
	MinCodeLength = 5
	MaxCodeLength = 500
)

// IsValidStockCode проверяет, что код непустой и укладывается в допустимую длину.
func IsValidStockCode(code string) bool {
	code = strings.TrimSpace(code)
	return len(code) >= MinCodeLength && len(code) <= MaxCodeLength
}

// SplitCodes разбирает текст с кодами (по одному в строке). Пустые строки
// и строки-комментарии, начинающиеся с #, пропускаются.
func SplitCodes(text string) []string {
	var codes []string
	for _, line := range strings.Split(text, "\n") {
		code := strings.TrimSpace(line)
		if code == "" || strings.HasPrefix(code, "#") {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}
