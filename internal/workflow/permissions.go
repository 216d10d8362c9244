package workflow

import "github.com/joescharf/bugflow/internal/models"

// roleTargets lists the statuses each work role may move a bug into.
// Reviewers may pick any graph-legal target; reporters none.
var roleTargets = map[models.Role][]models.Status{
	models.RoleDeveloper: {models.StatusFixInProgress, models.StatusFixed},
	models.RoleTester: {
		models.StatusTestingProgress,
		models.StatusTestedVerified,
		models.StatusReadyForClosure,
		models.StatusClosed,
	},
}

// MayTransition reports whether role may request a move into target. It is
// consulted by client surfaces before calling the engine.
func MayTransition(role models.Role, target models.Status) bool {
	if role.Reviewer() {
		return true
	}
	for _, s := range roleTargets[role] {
		if s == target {
			return true
		}
	}
	return false
}

// MayRequestReallocation reports whether role can ask to be reallocated.
func MayRequestReallocation(role models.Role) bool { return role.WorkRole() }

// MayRequestReopen reports whether role can ask for a closed bug to be reopened.
func MayRequestReopen(role models.Role) bool { return role.WorkRole() }

// MayResolve reports whether role can approve or reject requests.
func MayResolve(role models.Role) bool { return role.Reviewer() }

// MayManage reports whether role can assign people and teams to bugs.
func MayManage(role models.Role) bool { return role.Reviewer() }

// MayLogHours reports whether actor may log effort for the given work role.
// Developers and testers log their own hours; reviewers may log either.
func MayLogHours(actor, role models.Role) bool {
	return actor.Reviewer() || (actor.WorkRole() && actor == role)
}

// CheckTransition returns a Forbidden error when actor may not request target.
func CheckTransition(actor models.ActingUser, target models.Status) error {
	if !MayTransition(actor.Role, target) {
		return Forbidden("move", "role %q may not set status %q", actor.Role, target)
	}
	return nil
}
