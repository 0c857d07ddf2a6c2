package main

import (
	"net/http"
	"strings"
	"time"
)

// credentials accepts either form fields (as OAuth2 password flows post
// them) or a JSON body.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentials, bool) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var creds credentials
		if err := decodeJSON(r, &creds); err != nil {
			return credentials{}, false
		}
		return creds, creds.Username != "" && creds.Password != ""
	}
	if err := r.ParseForm(); err != nil {
		return credentials{}, false
	}
	creds := credentials{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	return creds, creds.Username != "" && creds.Password != ""
}

func (api *jobgateAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	creds, ok := readCredentials(r)
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "credentials_required")
		return
	}
	token, expiresIn, err := api.issueToken(r.Context(), creds.Username, creds.Password)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "incorrect_username_or_password")
		return
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"id_token":   token,
		"expires_in": expiresIn,
	})
}

// handleLogin is the cookie variant of the token exchange, for browser
// clients.
func (api *jobgateAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := readCredentials(r)
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "credentials_required")
		return
	}
	token, expiresIn, err := api.issueToken(r.Context(), creds.Username, creds.Password)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "incorrect_username_or_password")
		return
	}
	if expiresIn <= 0 {
		expiresIn = int((30 * time.Minute).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "Authorization",
		Value:    "Bearer " + token,
		MaxAge:   expiresIn,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	api.writeJSON(w, http.StatusCreated, map[string]string{
		"message": "You've successfully logged in. Welcome back!",
	})
}

// handleRegisterUser creates a local dev account and its file namespace.
// Registered only in dev mode; production accounts live in Cognito.
func (api *jobgateAPI) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	creds, ok := readCredentials(r)
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "credentials_required")
		return
	}
	if err := api.dev.Register(creds.Username, creds.Password, creds.Username); err != nil {
		api.writeErrorWithDetails(w, r, http.StatusConflict, "user_exists", err.Error())
		return
	}
	if err := api.files.InitUser(r.Context(), creds.Username); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, map[string]any{
		"email":  creds.Username,
		"groups": []string{api.authCfg.RequiredGroup},
	})
}
