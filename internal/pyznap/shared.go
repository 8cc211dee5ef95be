package pyznap

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultPrefix names snapshots taken without an explicit prefix.
const DefaultPrefix = "pyznap"

// Logger is the default logger for the package.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var printer = message.NewPrinter(language.English)

// rawPlan renders a value for attaching to debug log events.
func rawPlan(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// bytesFmt converts a byte count to a human readable form with binary
// prefixes.
func bytesFmt(num int64) string {
	n := float64(num)
	for _, unit := range []string{"B", "K", "M", "G", "T", "P", "E", "Z"} {
		if n < 1024 {
			return printer.Sprintf("%3.1f%s", n, unit)
		}
		n /= 1024
	}
	return printer.Sprintf("%3.1f%s", n, "Y")
}
