// Package objc implements the guest object runtime: classes, selectors,
// message dispatch, reference counting and autorelease pools.
//
// Classes are records with a selector-keyed method table and a link to
// their superclass. Dispatch walks that chain at send time, so the first
// class defining a selector wins and tables can change at run time. Every
// class also has a metaclass holding its class methods, and the root
// metaclass inherits from the root class, as on the guest platform.
//
// An object is a guest allocation whose first word is its isa. Host state
// lives in a side table keyed by the object's address, which is the sole
// owner of that state:
//
//	type counter struct{ n int32 }
//
//	rt.RegisterClass(objc.ClassDef{
//		Name:  "Counter",
//		Super: objc.RootClassName,
//		State: func() any { return &counter{} },
//		Methods: map[string]any{
//			"increment": func(rt *objc.Runtime, this objc.ID, _ objc.SEL) int32 {
//				c := objc.Borrow[*counter](rt, this)
//				c.n++
//				return c.n
//			},
//		},
//	})
//
// Reference counts follow the guest's manual model. When a count reaches
// zero the object is sent dealloc, its state is finalized and its memory
// freed. Misuse such as over-release, access to a torn-down object or a
// state lookup with the wrong type faults instead of being masked.
package objc
