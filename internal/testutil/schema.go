package testutil

import (
	"github.com/roach88/tandem/internal/schema"
)

// SocialRegistry returns a frozen registry covering every relationship
// shape the engine supports:
//
//	user.accounts  <-> account.users   many-to-many, sync
//	user.topics    <-> topic.users     many-to-many, async
//	user.profile   <-> profile.owner   one-to-one, sync
//	post.comments  <-> comment.post    one-to-many, sync
//	post.author     -> user            one-way
//
// Inverses are inferred except where noted.
func SocialRegistry() *schema.Registry {
	r := schema.NewRegistry()
	r.MustRegister(&schema.Model{
		Name:       "user",
		Attributes: map[string]string{"name": "string", "age": "int"},
		Fields: []*schema.Field{
			{Name: "accounts", Target: "account"},
			{Name: "topics", Target: "topic", Async: true},
			{Name: "profile", Target: "profile", Cardinality: schema.One},
		},
	})
	r.MustRegister(&schema.Model{
		Name:       "account",
		Attributes: map[string]string{"name": "string"},
		Fields: []*schema.Field{
			{Name: "users", Target: "user"},
		},
	})
	r.MustRegister(&schema.Model{
		Name:       "topic",
		Attributes: map[string]string{"title": "string"},
		Fields: []*schema.Field{
			{Name: "users", Target: "user", Async: true},
		},
	})
	r.MustRegister(&schema.Model{
		Name:       "profile",
		Attributes: map[string]string{"bio": "string"},
		Fields: []*schema.Field{
			{Name: "owner", Target: "user", Cardinality: schema.One},
		},
	})
	r.MustRegister(&schema.Model{
		Name:       "post",
		Attributes: map[string]string{"title": "string"},
		Fields: []*schema.Field{
			{Name: "comments", Target: "comment", Inverse: "post"},
			{Name: "author", Target: "user", Cardinality: schema.One, Inverse: schema.NoInverse},
		},
	})
	r.MustRegister(&schema.Model{
		Name:       "comment",
		Attributes: map[string]string{"body": "string"},
		Fields: []*schema.Field{
			{Name: "post", Target: "post", Cardinality: schema.One},
		},
	})
	if err := r.Freeze(); err != nil {
		panic("testutil: social registry: " + err.Error())
	}
	return r
}
