package api

import "time"

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type UserProfile struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	IsAdmin       bool      `json:"is_admin"`
	IsActive      bool      `json:"is_active"`
	EmailVerified bool      `json:"email_verified"`
	IsSocial      bool      `json:"is_social,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AnalyzeResponse is the structured investment assessment of a startup.
type AnalyzeResponse struct {
	InvestmentScore int      `json:"investment_score"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	MarketSummary   string   `json:"market_summary"`
}

// Analysis is an assessment saved to the user's history.
type Analysis struct {
	AnalyzeResponse
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AnalysisRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	URL         string `json:"url,omitempty"`
	Stage       string `json:"stage,omitempty"`
}

type AnonymousAnalysisRequest struct {
	Description string `json:"description"`
}
