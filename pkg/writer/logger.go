package writer

import decoder "github.com/next-exp/waveconverter_go/pkg"

type nopLogger struct{}

func (nopLogger) Info(string, string) {}
func (nopLogger) Warn(string, string) {}
func (nopLogger) Error(string)        {}

var logger decoder.Logger = nopLogger{}

func SetLogger(l decoder.Logger) {
	if l == nil {
		logger = nopLogger{}
		return
	}
	logger = l
}
