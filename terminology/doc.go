// Package terminology resolves codes for the constraint validator.
//
// The validator only needs one question answered: does this code exist in
// this code system? Resolver is that question. The package provides:
//   - Memory: an in-memory resolver over loaded R4 CodeSystems, seeded with
//     a handful of common FHIR code systems
//   - Cached: a TTL cache in front of any Resolver
//
// Example usage:
//
//	mem := terminology.NewMemory()
//	if _, err := mem.LoadJSON(data); err != nil {
//		return err
//	}
//	res := terminology.NewCached(mem, 10*time.Minute)
//	r, err := res.ResolveBinding(ctx, "http://hl7.org/fhir/administrative-gender", "female")
package terminology
