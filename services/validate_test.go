package services

import (
	"strings"
	"testing"

	mailerrors "agent-mail/errors"

	"github.com/stretchr/testify/require"
)

func Test_ValidateSend(t *testing.T) {
	req := require.New(t)

	valid := func() SendRequest {
		return SendRequest{From: "alice", To: []string{"bob"}, Subject: "Hello", Body: "Hi"}
	}

	good := valid()
	req.NoError(ValidateSend(&good))

	cases := map[string]func(*SendRequest){
		"bad sender handle":     func(r *SendRequest) { r.From = "Alice" },
		"empty recipients":      func(r *SendRequest) { r.To = nil },
		"bad recipient handle":  func(r *SendRequest) { r.To = []string{"-bob"} },
		"blank subject":         func(r *SendRequest) { r.Subject = "   " },
		"subject too long":      func(r *SendRequest) { r.Subject = strings.Repeat("x", 201) },
		"blank body":            func(r *SendRequest) { r.Body = " \n\t" },
		"body too long":         func(r *SendRequest) { r.Body = strings.Repeat("x", 10001) },
		"bad tag":               func(r *SendRequest) { r.Tags = []string{"UPPER"} },
		"tag starts with dash":  func(r *SendRequest) { r.Tags = []string{"-urgent"} },
	}
	for name, corrupt := range cases {
		request := valid()
		corrupt(&request)
		err := ValidateSend(&request)
		req.Error(err, name)
		req.True(mailerrors.IsValidation(err), name)
	}
}

func Test_ValidateSend_Normalizes(t *testing.T) {
	req := require.New(t)

	request := SendRequest{
		From:    "alice",
		To:      []string{"bob", "carol", "bob"},
		Subject: "  padded  ",
		Body:    "Hi",
	}
	req.NoError(ValidateSend(&request))
	req.Equal("padded", request.Subject)
	req.Equal([]string{"bob", "carol"}, request.To, "recipients deduplicated in order")
}

func Test_ValidateReply(t *testing.T) {
	req := require.New(t)

	good := ReplyRequest{Actor: "alice", MessageID: "m1", Body: "ok"}
	req.NoError(ValidateReply(&good))

	blank := ReplyRequest{Actor: "alice", MessageID: "m1", Body: "  "}
	req.True(mailerrors.IsValidation(ValidateReply(&blank)))

	noTarget := ReplyRequest{Actor: "alice", Body: "ok"}
	req.True(mailerrors.IsValidation(ValidateReply(&noTarget)))
}

func Test_ValidateAddContact(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateAddContact(AddContactRequest{Actor: "alice", Handle: "bob"}))
	req.NoError(ValidateAddContact(AddContactRequest{Actor: "alice", Handle: "bob", Tags: []string{"admin"}}))

	err := ValidateAddContact(AddContactRequest{Actor: "alice", Handle: "Bob"})
	req.True(mailerrors.IsValidation(err))

	err = ValidateAddContact(AddContactRequest{Actor: "alice", Handle: "bob", Tags: []string{"no spaces"}})
	req.True(mailerrors.IsValidation(err))
}

func Test_ValidateUpdateContact(t *testing.T) {
	req := require.New(t)

	req.NoError(ValidateUpdateContact(UpdateContactRequest{Actor: "alice", Handle: "bob", ExpectedVersion: 1}))

	err := ValidateUpdateContact(UpdateContactRequest{Actor: "alice", Handle: "bob", ExpectedVersion: 0})
	req.True(mailerrors.IsValidation(err))

	bad := []string{"BAD"}
	err = ValidateUpdateContact(UpdateContactRequest{Actor: "alice", Handle: "bob", ExpectedVersion: 1, Tags: &bad})
	req.True(mailerrors.IsValidation(err))
}
