// Package docq translates typed Go queries into native queries of a
// schemaless document store and materializes the results back into Go
// values, in process or backed by Valkey or Redis.
//
// Documents live at paths such as "users/u1" and may own child collections
// ("users/u1/orders"). Registered types describe how documents map to
// structs: a `docq:"name"` tag renames a field, `docq:"id,id"` marks the
// identifier, `docq:"mentor,ref"` a reference and `docq:"orders,collection"`
// a child collection.
//
//	type User struct {
//	    ID      string         `docq:"id,id"`
//	    Name    string         `docq:"name"`
//	    Age     int            `docq:"age"`
//	    Manager docq.Ref[User] `docq:"manager,ref"`
//	    Orders  []*Order       `docq:"orders,collection"`
//	}
//
//	client, _ := docq.New(docq.WithValkey("localhost:6379", ""))
//	_ = docq.Register[User](client, "users")
//
//	s := client.Session()
//	adults, _ := docq.From[User](s).
//	    Where(docq.Field("Age").Gte(18)).
//	    OrderBy(docq.Field("Name")).
//	    Include(docq.Collection("Orders").Take(5)).
//	    ToList(ctx)
//
//	adults[0].Name = "Ann"
//	_ = s.SaveChanges(ctx)
//
// Operators the store cannot evaluate fail with ErrUnsupported at
// translation time; nothing is silently evaluated in memory except the
// aggregates of computed selectors.
package docq
