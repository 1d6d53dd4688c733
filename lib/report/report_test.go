package report

import (
	"strings"
	"testing"

	"checkin-backend/lib/engine"

	"github.com/stretchr/testify/require"
)

var sample = engine.RunReport{
	RunId: "7a1d",
	Site:  "myforum",
	Results: []engine.AccountResult{
		{Identity: "alice", Ok: true, Status: "checked in", Detail: "积分 4321"},
		{Identity: "bob", Ok: false, Status: "bad credentials"},
	},
	Succeeded: 1,
	Total:     2,
}

func TestRender(t *testing.T) {
	var out strings.Builder
	Render(&out, sample)

	text := out.String()
	require.Contains(t, text, "myforum")
	require.Contains(t, text, "alice")
	require.Contains(t, text, "checked in (ok)")
	require.Contains(t, text, "bad credentials (FAILED)")
	require.Contains(t, text, "1/2")
}

func TestSummarize(t *testing.T) {
	body := Summarize([]engine.RunReport{sample})
	require.Contains(t, body, "myforum: 1/2 succeeded")
	require.Contains(t, body, "alice: checked in (ok) 积分 4321")
	require.Contains(t, body, "bob: bad credentials (FAILED)")
}
