package handlers

import (
	"GOSAFE_BACK-END/internal/dto"
	"GOSAFE_BACK-END/internal/models"
	"GOSAFE_BACK-END/internal/utils"
)

func toFix(l *dto.LocationFix) *models.DeviceFix {
	if l == nil {
		return nil
	}
	return &models.DeviceFix{Latitude: l.Latitude, Longitude: l.Longitude, Name: l.Name}
}

func toJourneyResponse(j *models.Journey) dto.JourneyResponse {
	out := dto.JourneyResponse{
		ID:          j.ID,
		GroupID:     j.GroupID,
		CreatorID:   j.CreatorID,
		JourneyType: string(j.Type),
		State:       string(j.State),
		IniDate:     utils.FormatTimestamp(j.IniDate),
	}
	if j.EndDate != nil {
		out.EndDate = utils.FormatTimestamp(*j.EndDate)
	}
	return out
}

func toParticipationResponse(p *models.Participation) dto.ParticipationResponse {
	return dto.ParticipationResponse{
		ID:             p.ID,
		JourneyID:      p.JourneyID,
		UserID:         p.UserID,
		State:          string(p.State),
		SourceID:       p.SourceID,
		DestinationID:  p.DestinationID,
		SharedLocation: p.SharedLocation,
		CreatedAt:      utils.FormatTimestamp(p.CreatedAt),
		UpdatedAt:      utils.FormatTimestamp(p.UpdatedAt),
	}
}

func toPositionResponse(p models.Position) dto.PositionResponse {
	return dto.PositionResponse{
		UserID:    p.UserID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Timestamp: p.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Seq:       p.Seq,
	}
}

func toCompanionResponse(r *models.CompanionRequest) dto.CompanionResponse {
	m := r.Match()
	return dto.CompanionResponse{
		ID:               r.ID,
		CreatorID:        r.CreatorID,
		CompanionID:      r.CompanionID,
		SourceID:         r.SourceID,
		DestinationID:    r.DestinationID,
		Description:      r.Description,
		AproxHour:        r.AproxHour,
		CompanionMessage: r.CompanionMessage,
		CompanionGroupID: r.CompanionGroupID,
		State:            string(r.State),
		Match:            dto.CompanionMatch{Kind: m.Kind.String(), UserID: m.UserID},
		CreatedAt:        utils.FormatTimestamp(r.CreatedAt),
		UpdatedAt:        utils.FormatTimestamp(r.UpdatedAt),
	}
}

func toNotificationItem(n *models.Notification) dto.NotificationItem {
	return dto.NotificationItem{
		ID:        n.ID.String(),
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		Read:      n.Read,
		CreatedAt: utils.FormatTimestamp(n.CreatedAt),
	}
}

func toLocationResponse(l *models.Location) dto.LocationResponse {
	return dto.LocationResponse{
		ID:        l.ID,
		Latitude:  l.Latitude,
		Longitude: l.Longitude,
		Name:      l.Name,
		CreatedAt: utils.FormatTimestamp(l.Timestamp),
	}
}
