package audit

import "strings"

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// ParseRoute returns action and resource for an HTTP method and ServeMux pattern path
// (e.g. DELETE /users/{id}). Resource is the singular of the first path segment
// (users -> user). Action is a verb derived from the method, or the last literal segment
// for action sub-routes such as POST /users/verify.
func ParseRoute(method, path string) ActionResource {
	segs := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segs) == 0 {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}
	resource := strings.TrimSuffix(segs[0], "s")
	if resource == "" {
		resource = "unknown"
	}
	if last := segs[len(segs)-1]; len(segs) > 1 && !isWildcard(last) && method == "POST" {
		return ActionResource{Action: strings.ToLower(last), Resource: resource}
	}
	return ActionResource{Action: methodToAction(method, isWildcard(segs[len(segs)-1])), Resource: resource}
}

func isWildcard(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func methodToAction(method string, item bool) string {
	switch method {
	case "GET":
		if item {
			return "get"
		}
		return "list"
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
