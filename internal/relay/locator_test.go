package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"zowie-bridge/internal/observability/logging"
)

func TestLocatorAddressing(t *testing.T) {
	cases := []struct {
		name     string
		platform *fakePlatform
		want     Addressing
	}{
		{
			name: "unavailable relay falls back to loopback",
			platform: &fakePlatform{
				present:     false,
				internalURL: "http://192.168.1.50:8123",
			},
			want: Addressing{ManagementURL: "http://127.0.0.1:11984", TransportHost: "127.0.0.1", TransportPort: 18554, Colocated: true},
		},
		{
			name:     "present without configuration is colocated",
			platform: &fakePlatform{present: true, internalURL: "http://192.168.1.50:8123"},
			want:     Addressing{ManagementURL: "http://127.0.0.1:11984", TransportHost: "192.168.1.50", TransportPort: 18554, Colocated: true},
		},
		{
			name: "configured loopback ipv4",
			platform: &fakePlatform{
				present:     true,
				descriptor:  &Descriptor{URL: "http://127.0.0.1:11984"},
				internalURL: "http://10.0.0.7:8123",
			},
			want: Addressing{ManagementURL: "http://127.0.0.1:11984", TransportHost: "10.0.0.7", TransportPort: 18554, Colocated: true},
		},
		{
			name: "configured localhost",
			platform: &fakePlatform{
				present:     true,
				descriptor:  &Descriptor{URL: "http://localhost:1984/"},
				internalURL: "http://10.0.0.7:8123",
			},
			want: Addressing{ManagementURL: "http://localhost:1984/", TransportHost: "10.0.0.7", TransportPort: 18554, Colocated: true},
		},
		{
			name: "configured ipv6 loopback with ipv6 lan address",
			platform: &fakePlatform{
				present:     true,
				descriptor:  &Descriptor{URL: "http://[::1]:1984"},
				internalURL: "http://[fd00::12]:8123",
			},
			want: Addressing{ManagementURL: "http://[::1]:1984", TransportHost: "fd00::12", TransportPort: 18554, Colocated: true},
		},
		{
			name: "external relay",
			platform: &fakePlatform{
				present:     true,
				descriptor:  &Descriptor{URL: "http://relay.example.net:1984"},
				internalURL: "http://192.168.1.50:8123",
			},
			want: Addressing{ManagementURL: "http://relay.example.net:1984", TransportHost: "relay.example.net", TransportPort: 8554},
		},
		{
			name: "colocated without lan address uses loopback placeholder",
			platform: &fakePlatform{
				present:    true,
				descriptor: &Descriptor{URL: "http://127.0.0.1:11984"},
			},
			want: Addressing{ManagementURL: "http://127.0.0.1:11984", TransportHost: "127.0.0.1", TransportPort: 18554, Colocated: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locator := NewLocator(tc.platform, logging.Discard())
			got, err := locator.Addressing(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLocatorMemoizesPresentRelay(t *testing.T) {
	platform := &fakePlatform{
		present:     true,
		descriptor:  &Descriptor{URL: "http://relay.example.net:1984"},
		internalURL: "http://192.168.1.50:8123",
	}
	locator := NewLocator(platform, logging.Discard())

	first, err := locator.Addressing(context.Background())
	require.NoError(t, err)

	platform.setDescriptor("http://127.0.0.1:11984")
	second, err := locator.Addressing(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, platform.descriptorCalls)
}

func TestLocatorDoesNotMemoizeAbsentRelay(t *testing.T) {
	platform := &fakePlatform{
		present:     false,
		descriptor:  &Descriptor{URL: "http://relay.example.net:1984"},
		internalURL: "http://192.168.1.50:8123",
	}
	locator := NewLocator(platform, logging.Discard())

	fallback, err := locator.Addressing(context.Background())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", fallback.TransportHost)
	require.False(t, locator.Available(context.Background()))

	platform.setPresent(true)
	resolved, err := locator.Addressing(context.Background())
	require.NoError(t, err)
	require.Equal(t, "relay.example.net", resolved.TransportHost)
	require.Equal(t, ExternalTransportPort, resolved.TransportPort)
}

func TestLocatorSurfacesMalformedURL(t *testing.T) {
	platform := &fakePlatform{
		present:    true,
		descriptor: &Descriptor{URL: "http://[::1"},
	}
	locator := NewLocator(platform, logging.Discard())

	_, err := locator.Addressing(context.Background())
	require.Error(t, err)

	platform.setDescriptor("http://relay.example.net:1984")
	got, err := locator.Addressing(context.Background())
	require.NoError(t, err)
	require.Equal(t, "relay.example.net", got.TransportHost)
}

func TestLocatorRejectsHostlessURL(t *testing.T) {
	locator := NewLocator(&fakePlatform{present: true, descriptor: &Descriptor{URL: "/api"}}, logging.Discard())
	_, err := locator.Addressing(context.Background())
	require.ErrorContains(t, err, "has no host")
}

func TestNilLocatorIsUnavailable(t *testing.T) {
	var locator *Locator
	require.False(t, locator.Available(context.Background()))
	require.False(t, NewLocator(nil, nil).Available(context.Background()))
}
