package logging

const (
	BaseDataDir   = "data"
	LogsDir       = "logs"
	LogFileFormat = "2006-01-02.log"
	TimeFormat    = "2006-01-02 15:04:05"
)

type ProcessName string

const (
	TaskMarketProcess ProcessName = "taskmarket"
	CLIProcess        ProcessName = "taskmarket-cli"
)

type LoggerConfig struct {
	LogDir        string
	ProcessName   ProcessName
	IsDevelopment bool
	// ConsoleOnly disables the rotating file sink.
	ConsoleOnly bool
	// Stderr sends console output to stderr, keeping stdout for command
	// output.
	Stderr bool

	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
}

func NewDefaultConfig(processName ProcessName) LoggerConfig {
	return LoggerConfig{
		LogDir:        BaseDataDir,
		ProcessName:   processName,
		IsDevelopment: true,
		MaxSizeMB:     50,
		MaxAgeDays:    7,
		MaxBackups:    10,
	}
}
