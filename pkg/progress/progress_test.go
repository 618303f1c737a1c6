package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_SplitsLines(t *testing.T) {
	var lines []string
	w := NewWriter(func(l string) { lines = append(lines, l) })
	fmt.Fprint(w, "one\ntw")
	fmt.Fprint(w, "o\r\nReceiving 10%\rReceiving 100%\n\n   \nlast")
	assert.Equal(t, []string{"one", "two", "Receiving 10%", "Receiving 100%"}, lines)
	w.Close()
	assert.Equal(t, "last", lines[len(lines)-1])
}

func TestWriter_NilFunc(t *testing.T) {
	w := NewWriter(nil)
	_, err := w.Write([]byte("ignored\n"))
	assert.NoError(t, err)
}
