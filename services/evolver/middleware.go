// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/Evolver/services/evolver/telemetry"
)

const requestIDHeader = "X-Request-ID"

// RequestID echoes the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDHeader); id != "" {
		return id
	}
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDHeader, requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}

// RateLimit refuses requests beyond limiter's budget with 429. A nil
// limiter lets everything through.
//
// Thread Safety: rate.Limiter is safe for concurrent use.
func RateLimit(limiter *rate.Limiter, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Allow() {
			c.Next()
			return
		}
		if metrics != nil {
			metrics.RateLimitedTotal.Add(c.Request.Context(), 1)
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "rate limit exceeded",
			Code:  "RATE_LIMITED",
		})
	}
}
