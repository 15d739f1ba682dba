package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCIDRs(t *testing.T) {
	nets, invalid := ParseCIDRs([]string{"127.0.0.0/8", " ::1/128 ", "", "bogus"})
	require.Len(t, nets, 2)
	require.Equal(t, []string{"bogus"}, invalid)
	require.True(t, Contains(nets, net.ParseIP("127.0.0.1")))
	require.True(t, Contains(nets, net.ParseIP("::1")))
	require.False(t, Contains(nets, net.ParseIP("10.1.2.3")))
}
