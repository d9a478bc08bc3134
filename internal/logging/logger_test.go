package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func initTest(t *testing.T, s Settings) string {
	t.Helper()
	dir := t.TempDir()
	if err := Initialize(dir, s); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() {
		CloseAll()
		logsDir = ""
		settings = Settings{}
	})
	return dir
}

func readCategoryLog(t *testing.T, dir string, cat Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(dir, "logs", date+"_"+string(cat)+".log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(data)
}

func TestDebugModeWritesCategoryFile(t *testing.T) {
	dir := initTest(t, Settings{DebugMode: true, Level: "debug"})

	Scheduler("worker %d started", 3)
	CloseAll()

	content := readCategoryLog(t, dir, CategoryScheduler)
	if !strings.Contains(content, "worker 3 started") {
		t.Errorf("log line missing: %q", content)
	}
	if !strings.Contains(content, "[INFO]") {
		t.Errorf("level tag missing: %q", content)
	}
}

func TestProductionModeIsSilent(t *testing.T) {
	dir := initTest(t, Settings{DebugMode: false, Level: "info"})

	Scheduler("should vanish")
	if _, err := os.Stat(filepath.Join(dir, "logs")); !os.IsNotExist(err) {
		t.Error("logs directory must not be created without debugMode")
	}
}

func TestCategoryToggle(t *testing.T) {
	initTest(t, Settings{
		DebugMode:  true,
		Level:      "info",
		Categories: map[string]bool{"browser": false},
	})

	if IsCategoryEnabled(CategoryBrowser) {
		t.Error("disabled category reported enabled")
	}
	if !IsCategoryEnabled(CategoryMemory) {
		t.Error("unlisted category must default to enabled")
	}
}

func TestLevelFilter(t *testing.T) {
	dir := initTest(t, Settings{DebugMode: true, Level: "warn"})

	l := Get(CategoryAPI)
	l.Info("filtered out")
	l.Warn("kept")
	CloseAll()

	content := readCategoryLog(t, dir, CategoryAPI)
	if strings.Contains(content, "filtered out") {
		t.Errorf("info line leaked past warn level: %q", content)
	}
	if !strings.Contains(content, "kept") {
		t.Errorf("warn line missing: %q", content)
	}
}

func TestJSONFormat(t *testing.T) {
	dir := initTest(t, Settings{DebugMode: true, Level: "info", JSONFormat: true})

	Get(CategorySession).Info("structured entry")
	CloseAll()

	content := readCategoryLog(t, dir, CategorySession)
	if !strings.Contains(content, `"msg":"structured entry"`) {
		t.Errorf("JSON line missing: %q", content)
	}
	if !strings.Contains(content, `"cat":"session"`) {
		t.Errorf("category field missing: %q", content)
	}
}

func TestTimerLogsAtDebug(t *testing.T) {
	dir := initTest(t, Settings{DebugMode: true, Level: "debug"})

	timer := StartTimer(CategoryAPI, "test operation")
	if elapsed := timer.Stop(); elapsed < 0 {
		t.Errorf("negative elapsed: %v", elapsed)
	}
	CloseAll()

	content := readCategoryLog(t, dir, CategoryAPI)
	if !strings.Contains(content, "test operation completed in") {
		t.Errorf("timer line missing: %q", content)
	}
}
