package main

import (
	"skyquery/cmd/skyquery/commands"
	"skyquery/lib/osutil"
	"skyquery/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	telemetry.InitSlog(false)
	err := telemetry.SetupFromEnv(ctx, "skyquery")
	if err != nil {
		osutil.Fatal("failed to set up telemetry", err)
	}
	defer telemetry.Shutdown(ctx)
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
