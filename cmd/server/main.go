package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path"

	log "github.com/sirupsen/logrus"

	"github.com/llmgate/LLMGateAPI/internal/cmd"
	"github.com/llmgate/LLMGateAPI/internal/config"
	"github.com/llmgate/LLMGateAPI/internal/util"
)

type LogFormatter struct {
}

func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	newLog := fmt.Sprintf("[%s] [%s] [%s:%d] %s\n", timestamp, entry.Level, path.Base(entry.Caller.File), entry.Caller.Line, entry.Message)

	b.WriteString(newLog)
	return b.Bytes(), nil
}

func init() {
	log.SetOutput(os.Stdout)
	log.SetReportCaller(true)
	log.SetFormatter(&LogFormatter{})
}

func main() {
	var configDir string
	var user string
	var loggingDir string

	flag.StringVar(&configDir, "ConfigDirectory", "", "directory containing config.yaml and the users directory")
	flag.StringVar(&user, "User", "", "active user name, overrides the config file")
	flag.StringVar(&loggingDir, "LoggingDirectory", "", "request log directory, overrides the config file")
	flag.Parse()

	// Positional [config_directory] [user] fill whatever the flags left
	// empty.
	args := flag.Args()
	if configDir == "" && len(args) > 0 {
		configDir = args[0]
	}
	if user == "" && len(args) > 1 {
		user = args[1]
	}
	if configDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configDir = wd
	}

	configPath := path.Join(configDir, "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if user != "" {
		cfg.User = user
	}
	if loggingDir != "" {
		cfg.LoggingDir = loggingDir
	}
	if cfg.User == "" {
		log.Fatal("no user selected: set user in config.yaml, pass --User, or pass it as the second argument")
	}
	if !path.IsAbs(cfg.UsersDir) {
		cfg.UsersDir = path.Join(configDir, cfg.UsersDir)
	}
	if !path.IsAbs(cfg.LockDBPath) {
		cfg.LockDBPath = path.Join(configDir, cfg.LockDBPath)
	}

	util.SetLogLevel(cfg)

	cmd.StartService(cfg, configPath)
}
