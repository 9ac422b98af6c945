package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_NewThread_Normalizes_Participants(t *testing.T) {
	req := require.New(t)

	now := time.Now().UTC()
	thread := NewThread("t1", "standup", []string{"bob", "alice", "bob", "alice"}, now)
	req.Equal([]string{"alice", "bob"}, thread.Participants)
	req.Equal(now, thread.CreatedAt)
	req.Equal(now, thread.LastActivity)
}

func Test_AddParticipants_Only_Grows(t *testing.T) {
	req := require.New(t)

	thread := NewThread("t1", "standup", []string{"alice", "bob"}, time.Now().UTC())
	thread.AddParticipants("charlie")
	req.Equal([]string{"alice", "bob", "charlie"}, thread.Participants)

	// Re-adding existing handles never shrinks or reorders the set.
	thread.AddParticipants("alice", "charlie")
	req.Equal([]string{"alice", "bob", "charlie"}, thread.Participants)
}

func Test_SetMetadata_Upsert_And_Remove(t *testing.T) {
	req := require.New(t)

	thread := NewThread("t1", "standup", []string{"alice"}, time.Now().UTC())
	value := "high"
	thread.SetMetadata("priority", &value)
	req.Equal(map[string]string{"priority": "high"}, thread.Metadata)

	thread.SetMetadata("priority", nil)
	req.Empty(thread.Metadata)

	// Removing from a thread without metadata is a no-op.
	bare := NewThread("t2", "empty", []string{"alice"}, time.Now().UTC())
	bare.SetMetadata("missing", nil)
	req.Nil(bare.Metadata)
}

func Test_Handle_Validation(t *testing.T) {
	req := require.New(t)

	for _, valid := range []string{"alice", "a", "bob-2", "agent_7", "0day"} {
		req.True(IsValidHandle(valid), "expected %q to be valid", valid)
	}
	for _, invalid := range []string{"", "Alice", "-lead", "_x", "way too long " + string(make([]byte, 50)), "a b"} {
		req.False(IsValidHandle(invalid), "expected %q to be invalid", invalid)
	}
}

func Test_Contact_IsAdmin(t *testing.T) {
	req := require.New(t)

	admin := Contact{Handle: "dave", IsActive: true, Tags: []string{"ops", AdminTag}}
	req.True(admin.IsAdmin())

	inactive := Contact{Handle: "dave", IsActive: false, Tags: []string{AdminTag}}
	req.False(inactive.IsAdmin(), "deactivated contacts lose admin")

	plain := Contact{Handle: "bob", IsActive: true, Tags: []string{"ops"}}
	req.False(plain.IsAdmin())
}
