package archive

import logx "filegate/pkg/logx"

func testLogger() logx.Logger { return logx.Nop() }
