package auth

import (
	"strings"
	"testing"
)

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("Пароль-для-книг7")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if !CheckPassword("Пароль-для-книг7", hash) {
		t.Fatal("correct password rejected")
	}
	for _, wrong := range []string{"", "пароль-для-книг7", "Пароль-для-книг7 "} {
		if CheckPassword(wrong, hash) {
			t.Fatalf("wrong password %q accepted", wrong)
		}
	}
	if CheckPassword("Пароль-для-книг7", "not-a-hash") {
		t.Fatal("malformed stored hash accepted")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{name: "valid", password: "Str0ng!Passw0rd"},
		{name: "cyrillic", password: "Книжн1к!читА"},
		{name: "length counts runes not bytes", password: "Кни1!жАкн", wantErr: "at least 12"},
		{name: "too short", password: "Sh0rt!pass", wantErr: "at least 12"},
		{name: "no upper", password: "str0ng!passw0rd", wantErr: "uppercase"},
		{name: "no lower", password: "STR0NG!PASSW0RD", wantErr: "lowercase"},
		{name: "no digit", password: "Strong!Password", wantErr: "digit"},
		{name: "no special", password: "Str0ngPassw0rd", wantErr: "special"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
