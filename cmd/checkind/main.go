package main

import (
	"checkind-backend/cmd/checkind/commands"
	"checkind-backend/lib/telemetry"
	"checkind-backend/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "checkind")
	commands.ExecuteContext(ctx)
}
