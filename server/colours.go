package server

const (
	green      = "\033[32m"
	blue       = "\033[34m"
	yellow     = "\033[33m"
	cyan       = "\033[36m"
	magenta    = "\033[35m"
	gray       = "\033[90m" // Bright black, often appears as gray
	resetColor = "\033[0m"  // Reset to default color
)

var methodColors = map[string]string{
	"GET":    green,
	"POST":   blue,
	"PUT":    cyan,
	"DELETE": yellow,
	"PATCH":  magenta,
}
