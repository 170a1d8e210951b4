package admin_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/beacon/internal/admin"
	pkgerrors "github.com/agentstation/beacon/pkg/errors"
	"github.com/agentstation/beacon/pkg/models"
)

func newUsers(t *testing.T) *admin.UserStore {
	t.Helper()
	nop := zerolog.Nop()
	return admin.NewUserStore(&nop)
}

func mkUser(id, name, email string, role models.Role) models.User {
	return models.User{ID: id, Name: name, Email: email, Role: role, Status: models.StatusActive}
}

func seed(t *testing.T, u *admin.UserStore) {
	t.Helper()
	require.NoError(t, u.SetUsers([]models.User{
		mkUser("u1", "Ada Lovelace", "ada@example.com", models.RoleAdmin),
		mkUser("u2", "Grace Hopper", "grace@example.com", models.RoleEditor),
		mkUser("u3", "Straße Müller", "mueller@example.com", models.RoleViewer),
	}))
}

func TestSetUsers(t *testing.T) {
	u := newUsers(t)
	require.NoError(t, u.SetLoading(true))
	seed(t, u)

	state := u.State()
	assert.Len(t, state.Users, 3)
	assert.False(t, state.Loading)

	err := u.SetUsers([]models.User{
		mkUser("x", "X", "x@example.com", models.RoleAdmin),
		mkUser("x", "Y", "y@example.com", models.RoleAdmin),
	})
	assert.True(t, pkgerrors.IsAlreadyExists(err))
	assert.Len(t, u.State().Users, 3)
}

func TestAddUser(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	require.NoError(t, u.AddUser(mkUser("u4", "Linus", "linus@example.com", models.RoleViewer)))
	assert.Len(t, u.State().Users, 4)

	assert.True(t, pkgerrors.IsAlreadyExists(u.AddUser(mkUser("u4", "Dup", "dup@example.com", models.RoleViewer))))
	assert.True(t, pkgerrors.IsAlreadyExists(u.AddUser(mkUser("u5", "Dup", "ADA@example.com", models.RoleViewer))))
	assert.True(t, pkgerrors.IsValidationError(u.AddUser(mkUser("", "No ID", "n@example.com", models.RoleViewer))))
	assert.True(t, pkgerrors.IsValidationError(u.AddUser(mkUser("u6", "Bad", "bad@example.com", "root"))))
	assert.Len(t, u.State().Users, 4)
}

func TestUpdateUser(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	updated := mkUser("u2", "Grace B. Hopper", "grace@example.com", models.RoleAdmin)
	require.NoError(t, u.UpdateUser(updated))
	assert.Equal(t, updated, u.State().Users[1])

	assert.True(t, pkgerrors.IsNotFound(u.UpdateUser(mkUser("nope", "N", "n@example.com", models.RoleAdmin))))
}

func TestRemoveUserClearsSelection(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	require.NoError(t, u.Select("u2"))
	selected, ok := u.Selected()
	require.True(t, ok)
	assert.Equal(t, "u2", selected.ID)

	require.NoError(t, u.RemoveUser("u2"))
	_, ok = u.Selected()
	assert.False(t, ok)
	assert.Len(t, u.State().Users, 2)

	assert.True(t, pkgerrors.IsNotFound(u.RemoveUser("u2")))
}

func TestSelect(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	assert.True(t, pkgerrors.IsNotFound(u.Select("missing")))
	assert.True(t, pkgerrors.IsValidationError(u.Select("")))
	require.NoError(t, u.Select("u1"))
	require.NoError(t, u.ClearSelection())
	assert.Equal(t, "", u.State().SelectedID)
}

func TestFilter(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	ids := func() []string {
		var out []string
		for _, user := range u.Filtered() {
			out = append(out, user.ID)
		}
		return out
	}

	assert.Equal(t, []string{"u1", "u2", "u3"}, ids())

	require.NoError(t, u.SetFilter(admin.Filter{Query: "HOPPER"}))
	assert.Equal(t, []string{"u2"}, ids())

	require.NoError(t, u.SetFilter(admin.Filter{Query: "STRASSE"}))
	assert.Equal(t, []string{"u3"}, ids(), "query matching folds case")

	require.NoError(t, u.SetFilter(admin.Filter{Query: "example.com", Role: models.RoleAdmin}))
	assert.Equal(t, []string{"u1"}, ids())

	assert.True(t, pkgerrors.IsValidationError(u.SetFilter(admin.Filter{Role: "owner"})))
	assert.True(t, pkgerrors.IsValidationError(u.SetFilter(admin.Filter{Status: "gone"})))
	assert.Equal(t, models.RoleAdmin, u.State().Filter.Role)
}

func TestStateIsIsolatedFromCallers(t *testing.T) {
	u := newUsers(t)
	seed(t, u)

	state := u.State()
	state.Users[0].Name = "mutated"
	assert.Equal(t, "Ada Lovelace", u.State().Users[0].Name)
}
