package main

import (
	"errors"
	"log/slog"
	"os"

	"mailru-platform/cmd/mailru-cli/commands"
	"mailru-platform/lib/osutil"
	"mailru-platform/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()
	telemetry.InitSlog(true)
	// no telemetry.json5 just means spans go nowhere
	err := telemetry.SetupFromEnv(ctx, "mailru-cli")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("telemetry setup failed", "err", err)
	}
	commands.ExecuteContext(ctx)
}
