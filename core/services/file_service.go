package services

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
	"relay-client/internal/platform"
)

// FileService manages data directory paths and log file handles.
type FileService struct {
	DataDir    string
	ConfigPath string
	EnginePath string
	StateDir   string
	LogsDir    string

	// mu guards EngineLogFile, which is swapped on rotation while the engine writes.
	mu sync.Mutex

	// Log files
	MainLogFile   *os.File
	EngineLogFile *os.File
	APILogFile    *os.File
}

// NewFileService creates the data directory layout under dataDir.
func NewFileService(dataDir string) (*FileService, error) {
	dataDir = platform.ExpandPath(dataDir)
	if err := platform.EnsureDirectories(dataDir); err != nil {
		return nil, fmt.Errorf("NewFileService: cannot create directories: %w", err)
	}
	return &FileService{
		DataDir:    dataDir,
		ConfigPath: platform.GetConfigPath(dataDir),
		EnginePath: platform.GetEnginePath(dataDir),
		StateDir:   platform.GetStateDir(dataDir),
		LogsDir:    platform.GetLogsDir(dataDir),
	}, nil
}

// OpenLogFiles opens the main, engine and API log files with rotation support. Only the
// main log is required; the others fall back to nil.
func (fs *FileService) OpenLogFiles() error {
	logFile, err := fs.OpenLogFileWithRotation(filepath.Join(fs.LogsDir, constants.MainLogFileName))
	if err != nil {
		return fmt.Errorf("OpenLogFiles: cannot open main log file: %w", err)
	}
	log.SetOutput(logFile)
	fs.MainLogFile = logFile

	engineLogFile, err := fs.OpenLogFileWithRotation(filepath.Join(fs.LogsDir, constants.EngineLogFileName))
	if err != nil {
		debuglog.WarnLog("OpenLogFiles: failed to open engine log file: %v", err)
	} else {
		fs.EngineLogFile = engineLogFile
	}

	apiLogFile, err := fs.OpenLogFileWithRotation(filepath.Join(fs.LogsDir, constants.APILogFileName))
	if err != nil {
		debuglog.WarnLog("OpenLogFiles: failed to open API log file: %v", err)
	} else {
		fs.APILogFile = apiLogFile
	}
	return nil
}

// RotateEngineLog reopens the engine log, rotating it first if it grew too large. The
// tunnel controller calls it before each engine start.
func (fs *FileService) RotateEngineLog() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	path := filepath.Join(fs.LogsDir, constants.EngineLogFileName)
	if fs.EngineLogFile != nil {
		info, err := fs.EngineLogFile.Stat()
		if err == nil && info.Size() <= maxLogFileSize {
			return nil
		}
		debuglog.CloseWithLog("engine log", fs.EngineLogFile)
		fs.EngineLogFile = nil
	}
	f, err := fs.OpenLogFileWithRotation(path)
	if err != nil {
		return fmt.Errorf("RotateEngineLog: %w", err)
	}
	fs.EngineLogFile = f
	return nil
}

// EngineOutput writes to the current engine log file, following rotations.
func (fs *FileService) EngineOutput() io.Writer {
	return engineLogWriter{fs: fs}
}

type engineLogWriter struct {
	fs *FileService
}

func (w engineLogWriter) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	if w.fs.EngineLogFile == nil {
		return len(p), nil
	}
	return w.fs.EngineLogFile.Write(p)
}

// CloseLogFiles closes all log files.
func (fs *FileService) CloseLogFiles() {
	if fs.MainLogFile != nil {
		log.SetOutput(os.Stderr)
		fs.MainLogFile.Close()
		fs.MainLogFile = nil
	}
	fs.mu.Lock()
	if fs.EngineLogFile != nil {
		fs.EngineLogFile.Close()
		fs.EngineLogFile = nil
	}
	fs.mu.Unlock()
	if fs.APILogFile != nil {
		fs.APILogFile.Close()
		fs.APILogFile = nil
	}
}

// OpenLogFileWithRotation opens a log file in append mode, rotating it first if needed.
func (fs *FileService) OpenLogFileWithRotation(logPath string) (*os.File, error) {
	fs.CheckAndRotateLogFile(logPath)
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

const maxLogFileSize = 2 * 1024 * 1024 // 2 MB

// CheckAndRotateLogFile renames logPath to .old once it exceeds maxLogFileSize.
func (fs *FileService) CheckAndRotateLogFile(logPath string) {
	info, err := os.Stat(logPath)
	if err != nil {
		return
	}
	if info.Size() <= maxLogFileSize {
		return
	}
	oldPath := logPath + ".old"
	_ = os.Remove(oldPath)
	if err := os.Rename(logPath, oldPath); err != nil {
		debuglog.WarnLog("CheckAndRotateLogFile: failed to rotate log file %s: %v", logPath, err)
		return
	}
	debuglog.InfoLog("CheckAndRotateLogFile: rotated log file %s (size: %d bytes)", logPath, info.Size())
}
