package user

type UpdateProfileRequest struct {
	Name              *string `json:"name"`
	PreferredLanguage *string `json:"preferredLanguage"`
}

const searchLimit = 20
