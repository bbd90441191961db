package cni

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMTUDefault(t *testing.T) {
	require.Equal(t, 1500, BridgeConfig{}.mtuOrDefault())
	require.Equal(t, 9000, BridgeConfig{MTU: 9000}.mtuOrDefault())
}

func TestMACPrefersArgsMAC(t *testing.T) {
	cfg := BridgeConfig{MAC: "aa:bb:cc:dd:ee:ff", ArgsMAC: "11:22:33:44:55:66"}
	require.Equal(t, "11:22:33:44:55:66", cfg.mac())
}
