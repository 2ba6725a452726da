package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dojo-api/internal/middleware"
)

// Routes groups the handlers and guards mounted under the API prefix.
type Routes struct {
	Auth        *AuthHandler
	JoinRequest *JoinRequestHandler
	Enrollment  *EnrollmentHandler
	Graduation  *GraduationHandler

	Authenticator middleware.Authenticator
	Resolver      middleware.Resolver
	Logger        *zap.Logger
}

// Register mounts the API on r.
func (rt Routes) Register(r gin.IRouter) {
	requireAuth := middleware.Auth(rt.Authenticator)

	auth := r.Group("/auth")
	auth.POST("/login", rt.Auth.Login)
	auth.POST("/refresh", rt.Auth.Refresh)
	auth.POST("/logout", requireAuth, rt.Auth.Logout)
	auth.GET("/me", requireAuth, rt.Auth.Me)

	r.POST("/join-requests", rt.JoinRequest.Submit)

	dojo := r.Group("/dojos/:"+middleware.DojoParam, requireAuth, middleware.RequireMaster(rt.Resolver))
	dojo.GET("/join-requests", rt.JoinRequest.List)
	dojo.POST("/join-requests/:requestID/approve", middleware.Audit(rt.Logger, "join_request.approve"), rt.JoinRequest.Approve)
	dojo.POST("/join-requests/:requestID/reject", middleware.Audit(rt.Logger, "join_request.reject"), rt.JoinRequest.Reject)
	dojo.POST("/students", middleware.Audit(rt.Logger, "student.enroll"), rt.Enrollment.Create)
	dojo.GET("/graduations", rt.Graduation.List)
	dojo.POST("/graduations", middleware.Audit(rt.Logger, "graduation.schedule"), rt.Graduation.Schedule)
	dojo.POST("/graduations/finalize", middleware.Audit(rt.Logger, "graduation.finalize"), rt.Graduation.Finalize)
}
