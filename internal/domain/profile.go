package domain

// PublicProfile son los campos publicos de identidad de un usuario.
type PublicProfile struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
