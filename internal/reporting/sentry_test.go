package reporting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	t.Run("connection reset by peer", func(t *testing.T) {
		t.Parallel()

		err := `failed to send request: Get "https://lichess.org/api/user/DrNykterstein": read tcp [dead:beef:feb1:d745::c001]:64079->[dead:beef::6811:112a]:443: read: connection reset by peer`
		want := `failed to send request: Get "https://lichess.org/api/user/<username>": read tcp <host>-><host>: read: connection reset by peer`
		require.Equal(t, want, sanitizeError(err))
	})

	t.Run("misc ipv6", func(t *testing.T) {
		t.Parallel()

		ips := []string{
			`1:2:3:4:5:6:7:8`,
			`1::`,
			`1::8`,
			`1:2:3:4:5::7:8`,
			`::2:3:4:5:6:7:8`,
			`::8`,
			`::`,
		}
		for _, ip := range ips {
			t.Run(ip, func(t *testing.T) {
				t.Parallel()

				require.Equal(t, "<host>", sanitizeError(fmt.Sprintf("[%s]:1234", ip)))
			})
		}
	})

	cases := []struct {
		name  string
		error string
		want  string
	}{
		{
			name:  "lichess games",
			error: `failed to send request: Get "https://lichess.org/api/games/user/penguingm1?max=50&rated=true&since=1717171717171&sort=dateDesc": context deadline exceeded`,
			want:  `failed to send request: Get "https://lichess.org/api/games/user/<username>?max=50&rated=true&since=<timestamp>&sort=dateDesc": context deadline exceeded`,
		},
		{
			name:  "lichess tournament",
			error: `failed to send request: Get "https://lichess.org/api/tournament/Q3xwSMl2/standings?nb=200": EOF`,
			want:  `failed to send request: Get "https://lichess.org/api/tournament/<id>/standings?nb=200": EOF`,
		},
		{
			name:  "chess.com archive",
			error: `failed to send request: Get "https://api.chess.com/pub/player/hikaru/games/2024/05": context canceled`,
			want:  `failed to send request: Get "https://api.chess.com/pub/player/<username>/games/<yyyy>/<mm>": context canceled`,
		},
		{
			name:  "chess.com tournament",
			error: `chess.com returned status code 500 for https://api.chess.com/pub/tournament/late-titled-arena-4165281/rounds`,
			want:  `chess.com returned status code 500 for https://api.chess.com/pub/tournament/<id>/rounds`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, sanitizeError(tc.error))
		})
	}
}
