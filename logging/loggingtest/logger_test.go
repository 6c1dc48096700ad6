package loggingtest_test

import (
	"testing"
	"time"

	"github.com/zalando/indexroutes/logging/loggingtest"
)

func TestLoggingTest(t *testing.T) {
	lt := loggingtest.New()
	defer lt.Close()

	lt.Debug("debug")
	lt.Debugf("debugf: %s", "foo")
	lt.Info("info")
	lt.Infof("infof: %s", "foo")
	lt.Warn("warn")
	lt.Warnf("warnf: %s", "foo")
	lt.Error("error")
	lt.Errorf("errorf: %s", "foo")
	for _, s := range []string{"[DEBUG] debug", "debugf: foo", "[INFO] info", "infof: foo",
		"[WARN] warn", "warnf: foo", "[ERROR] error", "errorf: foo"} {
		if err := lt.WaitFor(s, time.Second); err != nil {
			t.Fatalf("Failed to get %q: %v", s, err)
		}
	}

	if n := lt.Count("info"); n != 2 {
		t.Fatalf(`Failed to get two times "info", got %d`, n)
	}

	lt.Reset()
	if err := lt.WaitForN("foo", 2, time.Millisecond); err != loggingtest.ErrWaitTimeout {
		t.Fatalf("Failed to get err want: %v, got: %v", loggingtest.ErrWaitTimeout, err)
	}
}

func TestLoggingTestWithFields(t *testing.T) {
	lt := loggingtest.New()
	defer lt.Close()

	lt.WithFields(map[string]interface{}{"pass": "1", "index": "i"}).Warn("changed")
	if err := lt.WaitFor("[WARN] changed index=i pass=1", time.Second); err != nil {
		t.Fatal(err)
	}
}
