package permit

// ============================================================================
// Request DTOs
// ============================================================================

// VerifyRequest is a permit as a dapp would submit it: the typed-data domain,
// the message and the 65-byte signature.
type VerifyRequest struct {
	Domain    DomainDTO  `json:"domain" binding:"required"`
	Message   MessageDTO `json:"message" binding:"required"`
	Signature string     `json:"signature" binding:"required,len=132" example:"0x1234...abcd"`
}

// DomainDTO carries the EIP-712 domain. Integers are decimal strings.
type DomainDTO struct {
	Name              string `json:"name" binding:"required" example:"USD Coin"`
	Version           string `json:"version" example:"2"`
	ChainID           string `json:"chain_id" binding:"required" example:"11155111"`
	VerifyingContract string `json:"verifying_contract" binding:"required,len=42" example:"0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"`
}

// MessageDTO carries the Permit message. Integers are decimal strings.
type MessageDTO struct {
	Owner    string `json:"owner" binding:"required,len=42"`
	Spender  string `json:"spender" binding:"required,len=42" example:"0x42f034CD03E06087870cF0D662EA6dB389E3364f"`
	Value    string `json:"value" binding:"required" example:"2000000"`
	Nonce    string `json:"nonce" binding:"required" example:"0"`
	Deadline string `json:"deadline" binding:"required" example:"1706003600"`
}

// ============================================================================
// Response DTOs
// ============================================================================

// VerifyResponse reports whether a permit consumer would accept the permit now.
// SignatureValid is true when the owner signed the permit, even if it has expired.
type VerifyResponse struct {
	Valid          bool   `json:"valid"`
	SignatureValid bool   `json:"signature_valid"`
	Recovered      string `json:"recovered,omitempty"`
	Expired        bool   `json:"expired"`
	Digest         string `json:"digest"`
	Reason         string `json:"reason,omitempty" example:"recovered address does not match owner"`
}
