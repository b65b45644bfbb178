package common

// TokenTypeBearer is the token_type reported alongside every issued token pair.
const TokenTypeBearer = "bearer"

// AuthorizationHeaderName carries "Bearer <token>" on inbound requests.
const AuthorizationHeaderName = "Authorization"
