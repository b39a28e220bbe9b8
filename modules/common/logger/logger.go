// Package logger - zap 기반 공용 로거
// 출력은 기존 log.Printf 와 같은 "날짜 시간 레벨 메시지" 한 줄 형식이고,
// 메시지 자체는 "✅ [Tag] ..." 처럼 이모지 + 태그로 시작한다.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LOG_LEVEL 기본값
const LevelInfo = "info"

// log.Printf 의 LstdFlags 와 같은 시간 형식
const timeLayout = "2006/01/02 15:04:05"

// Logger - printf 스타일 로깅 인터페이스
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// 모든 로거가 공유하는 레벨 (SetLevel 로 변경)
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// New - w 로 출력하는 로거
func New(w io.Writer) Logger {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "lvl",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), level)).Sugar()
}

// Default - 기본 로거 (테스트에서 교체 가능)
var Default = New(os.Stdout)

// SetLevel - LOG_LEVEL 값 적용 (알 수 없는 값은 info)
func SetLevel(name string) {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		Default.Warnf("⚠️  [Logger] Unknown log level %q, using info", name)
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)
}

func Debugf(format string, args ...any) {
	Default.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	Default.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	Default.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	Default.Errorf(format, args...)
}

// Fatalf - 로그 후 종료
func Fatalf(format string, args ...any) {
	Default.Fatalf(format, args...)
}
