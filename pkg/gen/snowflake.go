package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

// NewNode builds the process-wide snowflake node. Node id 1 is fine for a
// single-instance deployment; multi-instance setups should derive it from the
// environment.
func NewNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
