package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleValueAndScan(t *testing.T) {
	v, err := RoleCompanyManager.Value()
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	var r Role
	require.NoError(t, r.Scan(int64(1)))
	require.Equal(t, RoleSystemAdmin, r)
	require.Equal(t, "SYSTEM_ADMIN", r.String())

	require.NoError(t, r.Scan([]byte("3")))
	require.Equal(t, RoleTeamMember, r)

	require.Error(t, r.Scan(int64(9)))
	_, err = Role(0).Value()
	require.Error(t, err)
}

func TestStatusParse(t *testing.T) {
	for _, raw := range []int64{1, 2, 3, 4} {
		s, err := ParseStatus(raw)
		require.NoError(t, err)
		require.True(t, s.Valid())
	}

	_, err := ParseStatus(0)
	require.Error(t, err)
	_, err = ParseStatus(300)
	require.Error(t, err)

	var s Status
	require.Error(t, s.Scan(1.5))
	require.Equal(t, "PENDING", StatusPending.String())
}

func TestRefreshTokenLive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	token := RefreshToken{ExpiresAt: now.Add(time.Minute)}
	require.True(t, token.Live(now))
	require.False(t, token.Live(now.Add(time.Minute)))

	revoked := now
	token.RevokedAt = &revoked
	require.False(t, token.Live(now))
}

func TestUserInCompany(t *testing.T) {
	company := "c-1"
	u := &User{CompanyID: &company}
	require.True(t, u.InCompany("c-1"))
	require.False(t, u.InCompany("c-2"))
	require.False(t, u.InCompany(""))

	var nilUser *User
	require.False(t, nilUser.InCompany("c-1"))
	require.False(t, (&User{}).InCompany("c-1"))
}
