package search

import (
	"strings"
	"time"

	"github.com/FranksOps/happytweet/internal/storage"
)

// SearchRequest describes one page request.
type SearchRequest struct {
	Query           string
	MaxResults      int
	PaginationToken string
}

// SearchResponse is one decoded page. Posts keep provider order (newest first).
type SearchResponse struct {
	Posts       []storage.Post
	NextToken   string
	ResultCount int
}

// PageInfo is reported to Config.OnPage after every page.
type PageInfo struct {
	Number  int
	Posts   int
	HasMore bool
}

// apiResponse mirrors the recent-search JSON body.
type apiResponse struct {
	Data     []apiTweet  `json:"data"`
	Includes apiIncludes `json:"includes"`
	Meta     apiMeta     `json:"meta"`
	// Errors is set when the request succeeded but the search itself failed.
	Errors []apiError `json:"errors"`
}

type apiError struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (e apiError) String() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Message != "":
		return e.Message
	}
	return e.Title
}

type apiTweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	Lang      string    `json:"lang"`
}

type apiUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type apiIncludes struct {
	Users []apiUser `json:"users"`
}

type apiMeta struct {
	NewestID    string `json:"newest_id"`
	OldestID    string `json:"oldest_id"`
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token"`
}

// apiProblem covers both error body shapes the API uses: a problem document
// with title/detail, and an errors array.
type apiProblem struct {
	Title  string     `json:"title"`
	Detail string     `json:"detail"`
	Errors []apiError `json:"errors"`
}

func (p apiProblem) String() string {
	if p.Detail != "" {
		return p.Detail
	}
	if len(p.Errors) > 0 {
		msgs := make([]string, 0, len(p.Errors))
		for _, e := range p.Errors {
			if m := e.String(); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return p.Title
}

// searchErrors joins the errors of a body that carries no data.
func (r *apiResponse) searchErrors() string {
	if r.Data != nil || len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if m := e.String(); m != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return "search returned errors and no data"
	}
	return strings.Join(msgs, "; ")
}

// toResponse converts the wire body, joining authors from the users expansion.
func (r *apiResponse) toResponse(statusURL string) *SearchResponse {
	users := make(map[string]apiUser, len(r.Includes.Users))
	for _, u := range r.Includes.Users {
		users[u.ID] = u
	}

	posts := make([]storage.Post, 0, len(r.Data))
	for _, t := range r.Data {
		author := users[t.AuthorID]
		p := storage.Post{
			ID:              t.ID,
			Text:            t.Text,
			AuthorID:        t.AuthorID,
			CreatedAt:       t.CreatedAt,
			Language:        t.Lang,
			Username:        author.Username,
			ProfileImageURL: author.ProfileImageURL,
		}
		if p.Username != "" && statusURL != "" {
			p.URL = statusURL + "/" + p.Username + "/status/" + p.ID
		}
		posts = append(posts, p)
	}

	count := r.Meta.ResultCount
	if count == 0 {
		count = len(posts)
	}
	return &SearchResponse{
		Posts:       posts,
		NextToken:   r.Meta.NextToken,
		ResultCount: count,
	}
}
