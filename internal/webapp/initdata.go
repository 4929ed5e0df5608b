package webapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

// AuthenticateInitData verifies the signature Telegram attaches to a web
// app's init data and returns the user it identifies. The check follows
// the documented scheme: the data-check string is the sorted key=value
// pairs joined with newlines, signed with HMAC-SHA256 under a key derived
// from the bot token.
func AuthenticateInitData(raw, botToken string) (models.User, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return models.User{}, fmt.Errorf("parse init data: %w", err)
	}
	theirs := values.Get("hash")
	if theirs == "" {
		return models.User{}, fmt.Errorf("init data carries no hash")
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	ours := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(ours), []byte(theirs)) {
		return models.User{}, fmt.Errorf("init data signature mismatch")
	}

	var u struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &u); err != nil {
		return models.User{}, fmt.Errorf("parse init data user: %w", err)
	}
	if u.ID == 0 {
		return models.User{}, fmt.Errorf("init data user has no id")
	}
	return models.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}, nil
}
