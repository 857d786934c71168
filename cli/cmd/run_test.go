package cmd

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/cascadewatch/store"
)

func newTestStore(t *testing.T) (*store.RunStore, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewRunStore(dir)
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}
	return st, dir
}

func writeROIConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "roi_config.json")
	content := `{
		"signal_roi_polygon": [[0,0],[1,0],[1,1],[0,1]],
		"wrong_side_lane_polygon": [[0,0],[1,0],[1,1],[0,1]],
		"stop_line_polygon": [[0,0],[1,0]],
		"expected_direction_vector": [0,1]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write roi config: %v", err)
	}
	return path
}

// TestRunCommand_FailsWithoutVideoDecoder exercises the CLI's run path up
// to the point where it needs a real video decoder, since that
// collaborator is out of scope for this module. This documents the
// expected wiring failure mode rather than a successful analysis.
func TestRunCommand_FailsWithoutVideoDecoder(t *testing.T) {
	st, runsDir := newTestStore(t)
	roiPath := writeROIConfig(t, runsDir)

	app := &cli.App{
		Commands: []*cli.Command{RunCommand(st, runsDir)},
	}

	videoPath := filepath.Join(runsDir, "clip.mp4")
	if err := os.WriteFile(videoPath, []byte("not a real video"), 0o644); err != nil {
		t.Fatalf("write fake video: %v", err)
	}

	err := app.Run([]string{"cascadewatch", "run", "--video", videoPath, "--roi-config", roiPath, "--source", "cam-1", "--quiet"})
	if err == nil {
		t.Fatal("expected an error since no real video decoder is wired")
	}
}

func TestListRunsAction_RendersJSON(t *testing.T) {
	st, dir := newTestStore(t)
	if _, err := st.Register(store.NewRunID(), "video.mp4", "roi.json", "", "cam-1", "intersection"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	set := flag.NewFlagSet("list", 0)
	set.String("format", "json", "")
	set.Bool("tui", false, "")
	set.String("state", "", "")
	set.Int("limit", 0, "")
	c := cli.NewContext(&cli.App{}, set, nil)

	if err := listRunsAction(st)(c); err != nil {
		t.Fatalf("listRunsAction: %v", err)
	}
	_ = dir
}

func TestInspectRunAction_UnknownRunErrors(t *testing.T) {
	st, _ := newTestStore(t)

	set := flag.NewFlagSet("inspect", 0)
	set.String("format", "json", "")
	set.Bool("tui", false, "")
	set.Parse([]string{"run_does_not_exist"})
	c := cli.NewContext(&cli.App{}, set, nil)

	if err := inspectRunAction(st)(c); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestStatsRunAction_ReturnsMetrics(t *testing.T) {
	st, _ := newTestStore(t)
	runID := store.NewRunID()
	if _, err := st.Register(runID, "video.mp4", "roi.json", "", "cam-1", "intersection"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	set := flag.NewFlagSet("stats", 0)
	set.String("format", "json", "")
	set.Bool("tui", false, "")
	set.Parse([]string{runID})
	c := cli.NewContext(&cli.App{}, set, nil)

	if err := statsRunAction(st)(c); err != nil {
		t.Fatalf("statsRunAction: %v", err)
	}
}
