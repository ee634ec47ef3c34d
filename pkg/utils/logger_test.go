package utils

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fileLogger пишет JSON-логи во временный файл через lumberjack
func fileLogger(t *testing.T, cfg LogConfig) (*Logger, string) {
	t.Helper()
	if cfg.Output == "" {
		cfg.Output = filepath.Join(t.TempDir(), "logs", "escrowflow.log")
	}
	return InitLogger(cfg), cfg.Output
}

func readEntries(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	var entries []map[string]interface{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("строка лога не JSON: %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan log file: %v", err)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLogger_FileOutput(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Level: "debug"})

	logger.WithComponent("projector").Info("event applied",
		EventID("sig:0:1"), Slot(42), Outcome("created"))
	logger.Debug("debug line")
	_ = logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("записей в файле: %d, ожидалось 2", len(entries))
	}

	e := entries[0]
	checks := map[string]interface{}{
		"level":     "info",
		"message":   "event applied",
		"component": "projector",
		"event_id":  "sig:0:1",
		"slot":      float64(42),
		"outcome":   "created",
	}
	for key, want := range checks {
		if e[key] != want {
			t.Errorf("%s = %v, want %v", key, e[key], want)
		}
	}
	if _, ok := e["ts"]; !ok {
		t.Error("нет метки времени ts")
	}
	if _, ok := e["caller"]; !ok {
		t.Error("нет caller")
	}
}

func TestInitLogger_LevelFilter(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Level: "warn"})

	logger.Info("skipped")
	logger.Warn("kept")
	_ = logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 || entries[0]["message"] != "kept" {
		t.Errorf("entries = %v, want only the warn line", entries)
	}
}

func TestInitLogger_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	logger, _ := fileLogger(t, LogConfig{
		Output:     filepath.Join(dir, "rotate.log"),
		MaxSizeMB:  1,
		MaxBackups: 3,
	})

	chunk := strings.Repeat("x", 16*1024)
	// ~1.5 МБ при лимите в 1 МБ
	for i := 0; i < 96; i++ {
		logger.Info("filler", String("payload", chunk), Int("i", i))
	}
	_ = logger.Sync()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("файлов после ротации: %d, ожидалось не меньше 2", len(files))
	}

	info, err := os.Stat(filepath.Join(dir, "rotate.log"))
	if err != nil {
		t.Fatalf("stat current file: %v", err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("текущий файл %d байт, больше лимита", info.Size())
	}
}

func TestOpenOutput_FallsBackToStderr(t *testing.T) {
	// родитель пути - обычный файл, каталог создать нельзя
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	ws := openOutput(LogConfig{Output: filepath.Join(blocker, "app.log")})
	if ws == nil {
		t.Fatal("openOutput returned nil")
	}
	if _, err := os.Stat(filepath.Join(blocker, "app.log")); err == nil {
		t.Error("файл лога не должен был создаться")
	}

	for _, out := range []string{"", "stderr", "stdout", os.DevNull} {
		if openOutput(LogConfig{Output: out}) == nil {
			t.Errorf("openOutput(%q) returned nil", out)
		}
	}
}

func TestInitLogger_DevelopmentStacktrace(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		log         func(l *Logger)
		wantStack   bool
	}{
		{"warn in production", false, func(l *Logger) { l.Warn("w") }, false},
		{"error in production", false, func(l *Logger) { l.Error("e") }, true},
		{"warn in development", true, func(l *Logger) { l.Warn("w") }, true},
		{"info in development", true, func(l *Logger) { l.Info("i") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, path := fileLogger(t, LogConfig{Development: tt.development})
			tt.log(logger)
			_ = logger.Sync()

			entries := readEntries(t, path)
			if len(entries) != 1 {
				t.Fatalf("записей: %d", len(entries))
			}
			_, hasStack := entries[0]["stacktrace"]
			if hasStack != tt.wantStack {
				t.Errorf("stacktrace present = %v, want %v", hasStack, tt.wantStack)
			}
		})
	}
}

func TestInitLogger_ConsoleFormat(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{Format: "text"})
	logger.Info("listener started", Topic("escrow.events.v1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO") || !strings.Contains(line, "listener started") {
		t.Errorf("console line = %q", line)
	}
	if !strings.Contains(line, `"topic": "escrow.events.v1"`) {
		t.Errorf("поле topic не найдено: %q", line)
	}
}

func TestFieldsToInterface(t *testing.T) {
	got := fieldsToInterface([]zap.Field{
		OfferID("42"),
		Slot(7),
		Bool("first_seen", true),
		Partition(3),
	})

	want := []interface{}{"offer_id", "42", "slot", uint64(7), "first_seen", true, "partition", int32(3)}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %#v, want %#v", i, got[i], want[i])
		}
	}
}

func TestLogger_Infow(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{})
	logger.Infow("alert emitted", AlertID("large_amount:sig:0:1"), RuleID("large_amount"), Err(errors.New("boom")))
	_ = logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 1 {
		t.Fatalf("записей: %d", len(entries))
	}
	e := entries[0]
	if e["alert_id"] != "large_amount:sig:0:1" || e["rule_id"] != "large_amount" || e["error"] != "boom" {
		t.Errorf("поля не разложены: %v", e)
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	logger, path := fileLogger(t, LogConfig{})
	SetGlobalLogger(logger)
	if L() != logger {
		t.Fatal("L() must return the logger set by SetGlobalLogger")
	}

	Warn("global warn", Maker("Maker1"))
	Errorf("global %s", "errorf")
	_ = logger.Sync()

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("записей: %d", len(entries))
	}
	if entries[0]["maker"] != "Maker1" {
		t.Errorf("maker = %v", entries[0]["maker"])
	}
	if entries[1]["message"] != "global errorf" {
		t.Errorf("message = %v", entries[1]["message"])
	}
}

func TestLogger_WithPartition(t *testing.T) {
	logger, path := fileLogger(t, LogConfig{})
	logger.WithPartition("escrow.events.v1", 5).WithOfferID("42").Info("applied")
	_ = logger.Sync()

	e := readEntries(t, path)[0]
	if e["topic"] != "escrow.events.v1" || e["partition"] != float64(5) || e["offer_id"] != "42" {
		t.Errorf("context fields = %v", e)
	}
}
