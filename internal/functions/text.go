package functions

import (
	"bytes"
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

func init() {
	mustRegister("wordcount", WordCount)
	mustRegister("reverse", Reverse)
	mustRegister("upper", Upper)
	mustRegister("grep", Grep)
}

// Keep alphanumeric UTF-8 characters
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// WordCount counts the words of the workload and returns one "word count"
// line per distinct word, sorted by word.
func WordCount(workload []byte) ([]byte, error) {
	counts := make(map[string]int)
	for line := range strings.SplitSeq(string(workload), "\n") {
		for word := range strings.SplitSeq(line, " ") {
			word = strings.ToLower(word)
			word = nonWord.ReplaceAllString(word, "")
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			counts[word]++
		}
	}

	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	slices.Sort(words)

	var out bytes.Buffer
	for _, word := range words {
		out.WriteString(word)
		out.WriteByte(' ')
		out.WriteString(strconv.Itoa(counts[word]))
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

// Reverse reverses the workload rune by rune.
func Reverse(workload []byte) ([]byte, error) {
	if !utf8.Valid(workload) {
		return nil, errors.New("workload is not valid UTF-8")
	}
	runes := []rune(string(workload))
	slices.Reverse(runes)
	return []byte(string(runes)), nil
}

func Upper(workload []byte) ([]byte, error) {
	return bytes.ToUpper(workload), nil
}

// Grep expects the pattern on the first line of the workload and returns
// every following line that contains it.
func Grep(workload []byte) ([]byte, error) {
	pattern, text, found := bytes.Cut(workload, []byte("\n"))
	if !found || len(pattern) == 0 {
		return nil, errors.New("grep: missing pattern line")
	}

	var out bytes.Buffer
	for line := range bytes.SplitSeq(text, []byte("\n")) {
		if bytes.Contains(line, pattern) {
			out.Write(line)
			out.WriteByte('\n')
		}
	}
	return out.Bytes(), nil
}
