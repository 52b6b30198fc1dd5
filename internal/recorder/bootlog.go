package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/e7canasta/recorderd/internal/config"
	"github.com/e7canasta/recorderd/internal/initdata"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/params"
)

// pstoreFiles are read verbatim into the boot record, matching spec.md
// §6's "--bootlog" CLI surface. Either file may legitimately not exist on
// a machine that hasn't crashed since boot; that is not an error here
// (spec §7: transient/missing I/O is logged and skipped, not fatal).
var pstoreFiles = []string{
	"/sys/fs/pstore/console-ramoops",
	"/sys/fs/pstore/pmsg-ramoops-0",
}

// bootRecord is the one-shot record written by --bootlog mode.
type bootRecord struct {
	WallClockNanos int64             `json:"wall_clock_nanos"`
	Pstore         map[string]string `json:"pstore"`
}

func (r bootRecord) marshal() ([]byte, error) {
	return json.Marshal(r)
}

// RunBootlog creates exactly one new segment under logRoot containing the
// init record followed by a single boot record, then returns. It starts
// no encoder or ingest goroutines (spec S6).
func RunBootlog(cfg config.Runtime) error {
	if err := logger.ClearLocks(cfg.LogRoot); err != nil {
		return fmt.Errorf("bootlog: clear locks: %w", err)
	}

	log, err := logger.New(cfg.LogRoot)
	if err != nil {
		return fmt.Errorf("bootlog: open logger: %w", err)
	}
	defer log.Close()

	store, err := params.Open(cfg.ParamsDBPath)
	if err != nil {
		return fmt.Errorf("bootlog: open params store: %w", err)
	}
	defer store.Close()

	rec := initdata.Build(uint64(time.Now().UnixNano()), cfg.SoftwareVersion, cfg.SystemPropertiesPath, store)
	initPayload, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("bootlog: marshal init record: %w", err)
	}

	if _, _, err := log.NextSegment(initPayload, false); err != nil {
		return fmt.Errorf("bootlog: create segment: %w", err)
	}

	boot := bootRecord{
		WallClockNanos: time.Now().UnixNano(),
		Pstore:         readPstore(),
	}
	bootPayload, err := boot.marshal()
	if err != nil {
		return fmt.Errorf("bootlog: marshal boot record: %w", err)
	}

	if err := log.Log(bootPayload, false); err != nil {
		return fmt.Errorf("bootlog: write boot record: %w", err)
	}

	return nil
}

func readPstore() map[string]string {
	out := make(map[string]string, len(pstoreFiles))
	for _, path := range pstoreFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out[path] = string(data)
	}
	return out
}
